package ddl

import "github.com/binrelay/binrelay/schema"

// changeListener accumulates, for one ApplyDDL call, which databases each
// statement structurally affected. Statements keep their original order
// within a database group; databases keep first-seen order.
type changeListener struct {
	order  []string
	groups map[string][]string
}

func newChangeListener() *changeListener {
	return &changeListener{groups: make(map[string][]string)}
}

func (c *changeListener) reset() {
	c.order = c.order[:0]
	c.groups = make(map[string][]string)
}

// record notes that statement text affected the named database. The same
// statement is recorded once per database even when it names the database
// several times.
func (c *changeListener) record(database, statement string) {
	existing, seen := c.groups[database]
	if !seen {
		c.order = append(c.order, database)
	}
	if len(existing) > 0 && existing[len(existing)-1] == statement {
		return
	}
	c.groups[database] = append(existing, statement)
}

func (c *changeListener) grouped() []schema.DatabaseStatements {
	out := make([]schema.DatabaseStatements, 0, len(c.order))
	for _, db := range c.order {
		out = append(out, schema.DatabaseStatements{
			Database:   db,
			Statements: append([]string(nil), c.groups[db]...),
		})
	}
	return out
}
