package schema

import (
	"fmt"
	"sort"

	"crmloader/internal/normalize"
)

// Names of the built-in descriptors.
const (
	Clients = "clientes"
	History = "historial"
)

// ClientsDescriptor targets the clientes table. Phone number is the natural
// key; the column set mirrors what the CRM front end reads and writes.
func ClientsDescriptor() *Descriptor {
	fields := map[string]normalize.Kind{}
	for _, c := range []string{
		"telefono", "nombre", "dni", "email", "direccion", "ciudad", "departamento",
		"distrito", "genero", "estado_civil", "ocupacion", "campana",
		"canal_adquisicion", "sala_asignada", "compania", "tipo_base",
		"tipificacion_original", "estado", "seguimiento_status",
		"estatus_comercial_categoria", "estatus_comercial_subcategoria",
		"observaciones_asesor", "leads_original_telefono", "telefono_referencia_wizard",
		"tipo_plan", "plan_seleccionado",
	} {
		fields[c] = normalize.KindText
	}
	for _, c := range []string{
		"ultima_fecha_gestion", "fecha_ultimo_contacto", "created_at",
		"updated_at", "fecha_nacimiento", "fecha_wizard_completado",
		"derivado_at", "opened_at", "last_activity", "returned_at",
	} {
		fields[c] = normalize.KindDate
	}
	// asesor_asignado and telefono_principal_id hold row ids.
	for _, c := range []string{
		"id", "precio_plan", "edad", "asesor_asignado",
		"telefono_principal_id", "cantidad_duplicados",
	} {
		fields[c] = normalize.KindNumeric
	}
	fields["wizard_completado"] = normalize.KindBoolean
	fields["es_duplicado"] = normalize.KindBoolean

	return &Descriptor{
		Name:            Clients,
		Table:           "clientes",
		IDColumn:        "id",
		NaturalKey:      "telefono",
		DisplayColumn:   "nombre",
		UpdatedAtColumn: "updated_at",
		Required:        []string{"telefono", "nombre"},
		Fields:          fields,
	}
}

// HistoryDescriptor targets historial_cliente. Entries have no natural key;
// both parent rows must exist before an entry is inserted.
func HistoryDescriptor() *Descriptor {
	return &Descriptor{
		Name:     History,
		Table:    "historial_cliente",
		IDColumn: "id",
		Required: []string{"cliente_id", "usuario_id", "accion"},
		Fields: map[string]normalize.Kind{
			"cliente_id":      normalize.KindNumeric,
			"usuario_id":      normalize.KindNumeric,
			"accion":          normalize.KindText,
			"descripcion":     normalize.KindText,
			"estado_anterior": normalize.KindText,
			"estado_nuevo":    normalize.KindText,
			"comentarios":     normalize.KindText,
			"created_at":      normalize.KindDate,
		},
		References: []Reference{
			{Column: "cliente_id", Table: "clientes", TargetColumn: "id"},
			{Column: "usuario_id", Table: "usuarios", TargetColumn: "id"},
		},
	}
}

var builtins = map[string]func() *Descriptor{
	Clients: ClientsDescriptor,
	History: HistoryDescriptor,
}

// Builtin returns a fresh copy of the named built-in descriptor.
func Builtin(name string) (*Descriptor, error) {
	fn, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q (known: %v)", name, BuiltinNames())
	}
	return fn(), nil
}

// BuiltinNames lists the built-in descriptor names in sorted order.
func BuiltinNames() []string {
	out := make([]string, 0, len(builtins))
	for n := range builtins {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
