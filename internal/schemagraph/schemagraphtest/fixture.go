// Package schemagraphtest provides a small business schema for tests.
package schemagraphtest

import (
	"time"

	"pams-ai/internal/schemagraph"
)

func cols(pairs ...string) []schemagraph.Column {
	out := make([]schemagraph.Column, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, schemagraph.Column{Name: pairs[i], DataType: pairs[i+1]})
	}
	return out
}

func Tables() []schemagraph.Table {
	pk := []string{"id"}
	liberation := func(name string) schemagraph.Table {
		return schemagraph.Table{Name: name, PrimaryKey: pk, Columns: cols(
			"id", "integer", "projet_id", "integer", "montant_liberation", "numeric", "date_liberation", "date")}
	}
	return []schemagraph.Table{
		{Name: "fonds", PrimaryKey: pk, Columns: cols(
			"id", "integer", "denomination", "character varying", "alias", "character varying",
			"montant", "numeric", "frais_gestion", "numeric", "etat_id", "integer", "banque_id", "integer",
			"date_lancement", "date")},
		{Name: "etat_fonds", PrimaryKey: pk, Columns: cols("id", "integer", "libelle", "character varying")},
		{Name: "banque", PrimaryKey: pk, Columns: cols("id", "integer", "nom", "character varying")},
		{Name: "projet", PrimaryKey: pk, Columns: cols(
			"id", "integer", "nom", "character varying", "activite", "text", "capital", "numeric",
			"actionnaire_id", "integer", "etat_id", "integer", "fonds_id", "integer", "date_lancement", "date")},
		{Name: "actionnaire", PrimaryKey: pk, Columns: cols("id", "integer", "nom", "character varying")},
		{Name: "etat_avancement", PrimaryKey: pk, Columns: cols("id", "integer", "libelle", "character varying")},
		{Name: "investisseur", PrimaryKey: pk, Columns: cols(
			"id", "integer", "prenom", "character varying", "nom", "character varying")},
		{Name: "souscription", PrimaryKey: pk, Columns: cols(
			"id", "integer", "fonds_id", "integer", "investisseur_id", "integer",
			"montant_souscription", "numeric", "date_souscription", "date")},
		liberation("inv_liberation_action"),
		liberation("inv_liberation_oca"),
		liberation("inv_liberation_cca"),
	}
}

func fk(from, col, to string) schemagraph.ForeignKey {
	return schemagraph.ForeignKey{Constraint: from + "_" + col + "_fkey", FromTable: from, FromColumn: col, ToTable: to, ToColumn: "id"}
}

func Edges() []schemagraph.ForeignKey {
	return []schemagraph.ForeignKey{
		fk("fonds", "etat_id", "etat_fonds"),
		fk("fonds", "banque_id", "banque"),
		fk("projet", "actionnaire_id", "actionnaire"),
		fk("projet", "etat_id", "etat_avancement"),
		fk("projet", "fonds_id", "fonds"),
		fk("souscription", "fonds_id", "fonds"),
		fk("souscription", "investisseur_id", "investisseur"),
		fk("inv_liberation_action", "projet_id", "projet"),
		fk("inv_liberation_oca", "projet_id", "projet"),
		fk("inv_liberation_cca", "projet_id", "projet"),
	}
}

// Maxula returns a graph over Tables and Edges.
func Maxula() *schemagraph.Graph {
	return schemagraph.New(Tables(), Edges(), time.Unix(0, 0))
}
