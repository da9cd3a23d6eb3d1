package langdetect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	d := New()
	tests := []struct {
		text string
		want string
	}{
		{"What are the steps for renewing an ID card in Tunisia? I need the list of documents.", "en"},
		{"Quelles pièces faut-il fournir pour une déclaration fiscale simplifiée auprès de la recette des finances ?", "fr"},
		{"أريد شرح الإجراءات لتجديد بطاقة التعريف الوطنية في تونس", "ar"},
	}
	for _, tt := range tests {
		got, err := d.Detect(tt.text)
		require.NoError(t, err, tt.text)
		assert.Equal(t, tt.want, got, tt.text)
	}
}

func TestDetect_Undetermined(t *testing.T) {
	d := New()
	for _, text := range []string{"", "   ", "12345 67890 !!!"} {
		_, err := d.Detect(text)
		assert.ErrorIs(t, err, ErrUndetermined, "%q", text)
	}
}

func TestNew_Whitelist(t *testing.T) {
	d := New("fr", "ar", "xx")
	got, err := d.Detect("Bonjour, je voudrais renouveler mon passeport rapidement.")
	require.NoError(t, err)
	assert.Equal(t, "fr", got)
	assert.Len(t, d.opts.Whitelist, 2)
}
