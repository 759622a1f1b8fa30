// migrations встраивает SQL-миграции в бинарь, чтобы cmd/migrate
// не зависел от файловой системы при развёртывании.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
