// Package all registers every built-in database dialect. Import it for side
// effects from the command wiring layer:
//
//	import _ "crmloader/internal/store/all"
package all

import (
	_ "crmloader/internal/store/mysql"
	_ "crmloader/internal/store/oracle"
	_ "crmloader/internal/store/postgres"
	_ "crmloader/internal/store/sqlite"
	_ "crmloader/internal/store/sqlserver"
)
