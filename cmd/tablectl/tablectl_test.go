package main

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-backend/internal/apiclient"
	"resume-backend/internal/metadata"
	"resume-backend/internal/tableview"
)

func TestParseFilter(t *testing.T) {
	f, err := parseFilter("status:New")
	require.NoError(t, err)
	assert.Equal(t, apiclient.Filter{Column: "status", Operator: metadata.OpEquals, Value: "New"}, f)

	f, err = parseFilter("name:contains:ada:lovelace")
	require.NoError(t, err)
	assert.Equal(t, metadata.OpContains, f.Operator)
	assert.Equal(t, "ada:lovelace", f.Value)

	_, err = parseFilter("name:like:x")
	assert.Error(t, err)
	_, err = parseFilter("name")
	assert.Error(t, err)
}

func TestApplyAssignment(t *testing.T) {
	reg := metadata.NewRegistry()
	require.NoError(t, metadata.LoadAll(reg, ""))
	form := tableview.NewForm(reg.GetTable("posts"), nil)

	require.NoError(t, applyAssignment(form, "title=Backend Engineer"))
	require.NoError(t, applyAssignment(form, "budget+=Job board|2|99.5"))
	require.NoError(t, applyAssignment(form, "contacts+=Ada|ada@example.com"))
	require.NoError(t, applyAssignment(form, "contacts+=Bob|bob@example.com"))
	require.NoError(t, applyAssignment(form, "contacts-=0"))

	body := form.Body()
	assert.Equal(t, "Backend Engineer", body["title"])
	assert.Equal(t, []any{map[string]any{"description": "Job board", "quantity": 2.0, "price": 99.5}}, body["budget"])
	assert.Equal(t, []any{map[string]any{"name": "Bob", "email": "bob@example.com"}}, body["contacts"])

	assert.Error(t, applyAssignment(form, "title"))
	assert.Error(t, applyAssignment(form, "nope+=x"))
	assert.Error(t, applyAssignment(form, "budget-=x"))
}

func TestRenderDeleteResult(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	renderDeleteResult(&buf, &apiclient.DeleteResult{DeletedCount: 1, NotFound: []string{"missing-id"}, CleanupPending: true})
	out := buf.String()
	assert.Contains(t, out, "Deleted 1 record(s)")
	assert.Contains(t, out, "Not found: missing-id")
	assert.Contains(t, out, "cleanup is pending")
}
