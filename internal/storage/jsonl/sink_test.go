package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Evian-Zhang/udiab/internal/crawler"
)

func article(i int) crawler.Article {
	return crawler.Article{
		Title:   fmt.Sprintf("标题 %d", i),
		Source:  crawler.SourceCSDN,
		URL:     fmt.Sprintf("https://blog.csdn.net/u/article/details/%d", i),
		Content: []string{"if a < b && c > d {"},
		Code:    []string{"fmt.Println(\"<b>\")"},
		Views:   crawler.ViewsText("阅读量 12"),
		Date:    1638324000,
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestOpenAppendWritesOneLine(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "out")
	s, err := Open(dir, crawler.SourceCSDN, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "CSDN.txt"), s.Path())

	require.NoError(t, s.Append(context.Background(), article(1)))
	require.NoError(t, s.Close())

	lines := readLines(t, s.Path())
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"title":"标题 1"`)
	assert.Contains(t, lines[0], `a < b && c > d`)
	assert.Contains(t, lines[0], `"views":"阅读量 12"`)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	for _, key := range []string{"title", "source", "url", "content", "code", "views", "date"} {
		assert.Contains(t, got, key)
	}
}

func TestOpenKeepsExistingContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "CnBlog.txt")
	require.NoError(t, os.WriteFile(path, []byte("{\"previous\":true}\n"), 0o600))

	s, err := Open(dir, crawler.SourceCnBlog, nil)
	require.NoError(t, err)
	require.NoError(t, s.Append(context.Background(), article(2)))
	require.NoError(t, s.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, `{"previous":true}`, lines[0])
}

func TestConcurrentAppendsProduceIndependentLines(t *testing.T) {
	t.Parallel()

	s, err := Open(t.TempDir(), crawler.SourceJianShu, nil)
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := article(i)
			a.Content = []string{strings.Repeat("段落", 2048)}
			assert.NoError(t, s.Append(context.Background(), a))
		}(i)
	}
	wg.Wait()
	require.NoError(t, s.Close())

	lines := readLines(t, s.Path())
	require.Len(t, lines, writers)
	seen := map[string]bool{}
	for _, line := range lines {
		var a crawler.Article
		require.NoError(t, json.Unmarshal([]byte(line), &a))
		seen[a.URL] = true
	}
	assert.Len(t, seen, writers)
}

func TestAppendAfterCloseIsIOFailure(t *testing.T) {
	t.Parallel()

	s, err := Open(t.TempDir(), crawler.SourceCSDN, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err = s.Append(context.Background(), article(1))
	require.ErrorIs(t, err, crawler.ErrIOFailure)
	var ioErr *crawler.IOFailureError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, s.Path(), ioErr.Path)
}

func TestAppendWriteErrorIsIOFailure(t *testing.T) {
	t.Parallel()

	s, err := Open(t.TempDir(), crawler.SourceCSDN, nil)
	require.NoError(t, err)
	// Close the descriptor underneath the sink to make the write fail.
	require.NoError(t, s.file.Close())

	err = s.Append(context.Background(), article(1))
	require.ErrorIs(t, err, crawler.ErrIOFailure)
}

func TestAppendCanceledContext(t *testing.T) {
	t.Parallel()

	s, err := Open(t.TempDir(), crawler.SourceCSDN, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Append(ctx, article(1))
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, crawler.ErrIOFailure)
}

func TestOpenValidation(t *testing.T) {
	t.Parallel()

	_, err := Open("", crawler.SourceCSDN, nil)
	require.Error(t, err)
	_, err = Open(t.TempDir(), "", nil)
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err = Open(file, crawler.SourceCSDN, nil)
	require.Error(t, err)
}
