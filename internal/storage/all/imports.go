// Package all registers every storage backend with the storage factory.
// Import it for side effects only.
package all

import (
	_ "catalogimport/internal/storage/mssql"
	_ "catalogimport/internal/storage/mysql"
	_ "catalogimport/internal/storage/postgres"
	_ "catalogimport/internal/storage/sqlite"
)
