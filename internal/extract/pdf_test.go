package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsearch/apps/backend/internal/testutils"
)

func TestPDFExtractor_Extract(t *testing.T) {
	doc := testutils.BuildPDF(
		testutils.TextPage("CHAPTER 1. NETWORKING", "configure firewalld on RHEL 9"),
		"",
		testutils.TextPage("third page"),
	)

	pages, err := NewPDFExtractor().Extract(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, pages, 2)

	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, "CHAPTER 1. NETWORKING\nconfigure firewalld on RHEL 9", pages[0].Text)
	assert.Equal(t, 3, pages[1].Number)
	assert.Equal(t, "third page", pages[1].Text)
}

func TestPDFExtractor_Garbage(t *testing.T) {
	_, err := NewPDFExtractor().Extract(context.Background(), []byte("not a pdf"))
	assert.True(t, errors.Is(err, ErrUnreadable))

	_, err = NewPDFExtractor().Extract(context.Background(), nil)
	assert.Error(t, err)
}
