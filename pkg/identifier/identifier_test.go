package identifier

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNormalizeIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "vat number", raw: "BE0659689080", want: "be0659689080"},
		{name: "dotted enterprise number", raw: "0659.689.080", want: "0659689080"},
		{name: "surrounding whitespace", raw: "  be 0659 689 080 ", want: "be0659689080"},
		{name: "only punctuation", raw: "..-//", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeIdentifier(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidIdentifier))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeScheme(t *testing.T) {
	got, err := NormalizeScheme(" 0208 ")
	require.NoError(t, err)
	assert.Equal(t, "0208", got)

	_, err = NormalizeScheme("iso")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestNormalizeIdentifierIdempotent(t *testing.T) {
	rapid.Check(t, func(r *rapid.T) {
		raw := rapid.String().Draw(r, "raw")
		once, err := NormalizeIdentifier(raw)
		if err != nil {
			if !errors.Is(err, ErrInvalidIdentifier) {
				r.Fatalf("unexpected error type: %v", err)
			}
			return
		}
		twice, err := NormalizeIdentifier(once)
		if err != nil {
			r.Fatalf("normalizing a normalized value failed: %v", err)
		}
		if once != twice {
			r.Fatalf("not idempotent: %q -> %q -> %q", raw, once, twice)
		}
	})
}

func TestNormalizeSchemeIdempotent(t *testing.T) {
	rapid.Check(t, func(r *rapid.T) {
		raw := rapid.StringMatching(`[0-9a-z:\- ]{0,12}`).Draw(r, "raw")
		once, err := NormalizeScheme(raw)
		if err != nil {
			return
		}
		twice, err := NormalizeScheme(once)
		if err != nil || once != twice {
			r.Fatalf("not idempotent: %q -> %q -> %q (%v)", raw, once, twice, err)
		}
	})
}

func TestParseAddress(t *testing.T) {
	id, err := ParseAddress("0208:0659689080")
	require.NoError(t, err)
	assert.Equal(t, ParticipantID{Scheme: "0208", Value: "0659689080"}, id)
	assert.Equal(t, "iso6523-actorid-upis::0208:0659689080", id.URN())

	id, err = ParseAddress("iso6523-actorid-upis::9925:BE0659689080")
	require.NoError(t, err)
	assert.Equal(t, "9925:be0659689080", id.Address())

	_, err = ParseAddress("0659689080")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestDerivedIdentifiers(t *testing.T) {
	id, err := FromEnterpriseNumber("BE 0659.689.080")
	require.NoError(t, err)
	assert.Equal(t, "0208:0659689080", id.Address())

	id, err = FromVATNumber("BE0659689080")
	require.NoError(t, err)
	assert.Equal(t, "9925:be0659689080", id.Address())

	_, err = FromEnterpriseNumber("BE")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestCapability(t *testing.T) {
	a, err := NewCapability(" urn:doc ", "urn:proc")
	require.NoError(t, err)
	b, err := NewCapability("urn:doc", " urn:proc ")
	require.NoError(t, err)
	assert.True(t, a.Equal(b))

	_, err = NewCapability("urn:doc", "")
	assert.ErrorIs(t, err, ErrInvalidCapability)
}
