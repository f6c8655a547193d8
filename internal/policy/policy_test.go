package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPermissions(t *testing.T) {
	tests := []struct {
		role   string
		report bool
		draft  bool
		write  bool
		maxK   int
	}{
		{"viewer", false, false, false, 8},
		{"analyst", true, true, false, 10},
		{"ADMIN", true, true, true, 12},
		{"", false, false, false, 8},
		{"superuser", false, false, false, 8},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			p := For(ParseRole(tt.role))
			assert.True(t, p.Allows(Read))
			assert.Equal(t, tt.report, p.Allows(Report))
			assert.Equal(t, tt.draft, p.Allows(Draft))
			assert.Equal(t, tt.write, p.Allows(Write))
			assert.Equal(t, tt.maxK, p.MaxTopK)
		})
	}
}

func TestClampTopK(t *testing.T) {
	p := For(Analyst)
	assert.Equal(t, 8, p.ClampTopK(0))
	assert.Equal(t, 1, p.ClampTopK(-3))
	assert.Equal(t, 5, p.ClampTopK(5))
	assert.Equal(t, 10, p.ClampTopK(50))
}

func TestFilterSourceTypes(t *testing.T) {
	open := For(Admin)
	assert.Nil(t, open.FilterSourceTypes(nil))
	assert.Equal(t, []string{"maxula:fonds"}, open.FilterSourceTypes([]string{"maxula:fonds", ""}))

	restricted := For(Viewer)
	restricted.AllowedSourceTypes = []string{"pdf_ocr", "maxula:fonds"}
	assert.Equal(t, []string{"pdf_ocr", "maxula:fonds"}, restricted.FilterSourceTypes(nil))
	assert.Equal(t, []string{"maxula:fonds"}, restricted.FilterSourceTypes([]string{"maxula:fonds", "maxula:projet"}))
	assert.Equal(t, []string{}, restricted.FilterSourceTypes([]string{"maxula:projet"}))
}

func TestEnforce(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, Enforce(ctx, Read))
	assert.ErrorIs(t, Enforce(ctx, Write), ErrDenied)

	admin := WithRole(ctx, Admin)
	assert.Equal(t, Admin, RoleFrom(admin))
	assert.NoError(t, Enforce(admin, Write))
}
