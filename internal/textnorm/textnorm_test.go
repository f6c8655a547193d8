package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Dépositaire", "depositaire"},
		{"  ÉTAT d'Avancement ", "etat d'avancement"},
		{"Activité", "activite"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Fold(tt.in))
		})
	}
}

func TestTokensAndSignificant(t *testing.T) {
	assert.Equal(t, []string{"frais", "de", "gestion", "du", "fonds", "x"}, Tokens("Frais de gestion du fonds X ?"))
	assert.Equal(t, []string{"frais", "gestion", "fonds"}, Significant("Frais de gestion du fonds X ?"))
	assert.Equal(t, []string{"etats", "financiers", "2023"}, Significant("États financiers 2023"))
}

func TestStemMatchesPlural(t *testing.T) {
	assert.Equal(t, Stem("fond"), Stem("fonds"))

	set := StemSet("Rapports annuels")
	_, ok := set[Stem("rapport")]
	assert.True(t, ok)
}
