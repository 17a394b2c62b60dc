package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaNameFromUUID(t *testing.T) {
	name, err := SchemaName("3f2b8c1e-9d4a-4b6f-8a1c-000000000001")
	require.NoError(t, err)
	assert.Equal(t, "tenant_3f2b8c1e_9d4a_4b6f_8a1c_000000000001", name)
}

func TestSchemaNameRejectsInjection(t *testing.T) {
	cases := []string{
		"abc; DROP SCHEMA public",
		"abc\"--",
		"ABC-DEF", // uppercase is not a legal unquoted identifier here
		"",
		"abc def",
	}

	for _, id := range cases {
		_, err := SchemaName(id)
		assert.Error(t, err, id)
	}
}
