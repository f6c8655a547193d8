package schemagraph

// DisplayPriority lists the column names preferred when presenting a row.
var DisplayPriority = []string{"nom", "denomination", "libelle", "label", "raison_sociale", "name", "title", "code", "alias"}

// NameColumns lists the columns an entity is looked up by.
var NameColumns = []string{"nom", "denomination", "alias", "libelle", "raison_sociale", "name", "title"}

// DisplayColumns returns the column(s) presenting a row of table: prenom and
// nom together when both exist, else the first name from DisplayPriority,
// else the first text column, else the primary key.
func (g *Graph) DisplayColumns(table string) []string {
	t, ok := g.Table(table)
	if !ok {
		return nil
	}
	if p, ok := t.Column("prenom"); ok {
		if n, ok := t.Column("nom"); ok {
			return []string{p.Name, n.Name}
		}
	}
	for _, cand := range DisplayPriority {
		if c, ok := t.Column(cand); ok {
			return []string{c.Name}
		}
	}
	if text := t.TextColumns(); len(text) > 0 {
		return text[:1]
	}
	if len(t.PrimaryKey) > 0 {
		return t.PrimaryKey[:1]
	}
	if len(t.Columns) > 0 {
		return []string{t.Columns[0].Name}
	}
	return nil
}

// NameColumn returns the single column an entity of table is matched by name.
func (g *Graph) NameColumn(table string) (string, bool) {
	t, ok := g.Table(table)
	if !ok {
		return "", false
	}
	for _, cand := range NameColumns {
		if c, ok := t.Column(cand); ok {
			return c.Name, true
		}
	}
	cols := g.DisplayColumns(table)
	if len(cols) == 0 {
		return "", false
	}
	return cols[len(cols)-1], true
}

// YearColumnPriority lists the columns a year filter is applied to.
var YearColumnPriority = []string{"created_on", "updated_on", "date_creation", "date_debut", "date_fin", "date_lancement", "date"}

// YearColumn picks the date column of table used for year filters.
func (g *Graph) YearColumn(table string) (string, bool) {
	t, ok := g.Table(table)
	if !ok {
		return "", false
	}
	for _, cand := range YearColumnPriority {
		if c, ok := t.Column(cand); ok {
			return c.Name, true
		}
	}
	if dates := t.DateColumns(); len(dates) > 0 {
		return dates[0], true
	}
	return "", false
}
