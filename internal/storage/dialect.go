package storage

import (
	"strconv"
	"strings"
)

// Dialect captures the few SQL differences between the supported engines.
// Queries are written with "?" placeholders and rebound per dialect.
type Dialect struct {
	Name       string
	DriverName string

	// lockSuffix is appended to row reads inside UpdateCall.
	lockSuffix string
	numbered   bool
}

var (
	// Postgres uses the pgx stdlib driver and row locks (SELECT ... FOR UPDATE).
	Postgres = Dialect{Name: "postgres", DriverName: "pgx", lockSuffix: " FOR UPDATE", numbered: true}

	// SQLite uses modernc.org/sqlite. It has no row locks; the store is opened
	// with a single connection so transactions are serialized.
	SQLite = Dialect{Name: "sqlite", DriverName: "sqlite"}
)

// DialectFor returns the dialect by name.
func DialectFor(name string) (Dialect, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pg":
		return Postgres, true
	case "sqlite", "sqlite3":
		return SQLite, true
	default:
		return Dialect{}, false
	}
}

func (d Dialect) rebind(q string) string {
	if !d.numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}
