package indexer

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine(t testing.TB) *Engine {
	t.Helper()
	e, err := Build(filepath.Join("testdata", "test_db.txt"))
	require.NoError(t, err)
	return e
}

func loadLines(t testing.TB, lines ...string) *Engine {
	t.Helper()
	e, err := Load(strings.NewReader(strings.Join(lines, "\n")))
	require.NoError(t, err)
	return e
}

func TestBuildSuccess(t *testing.T) {
	e := testEngine(t)
	assert.Equal(t, 10, e.LineCount())
	assert.Positive(t, e.TermCount())
}

func TestBuildFileNotFound(t *testing.T) {
	e, err := Build(filepath.Join(t.TempDir(), "non_existent_file.txt"))
	require.Error(t, err)
	assert.Nil(t, e)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestBuildPermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	path := filepath.Join(t.TempDir(), "locked.txt")
	require.NoError(t, os.WriteFile(path, []byte("secret\n"), 0o000))
	_, err := Build(path)
	assert.ErrorIs(t, err, fs.ErrPermission)
}

func TestLoadEmptyFile(t *testing.T) {
	e, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, 0, e.LineCount())
	assert.Equal(t, 0, e.TermCount())
	assert.Empty(t, e.Search("anything"))
}

func TestLoadSingleEmptyLine(t *testing.T) {
	e, err := Load(strings.NewReader("\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, e.LineCount())
	line, ok := e.Fetch(0)
	assert.True(t, ok)
	assert.Equal(t, "", line)
	assert.Equal(t, 0, e.TermCount())
}

func TestLoadBlankLinesOnly(t *testing.T) {
	e, err := Load(strings.NewReader("\n\n   \n\t\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, e.LineCount())
	assert.Equal(t, 0, e.TermCount())
	line, ok := e.Fetch(2)
	require.True(t, ok)
	assert.Equal(t, "   ", line)
}

func TestLoadLineTerminators(t *testing.T) {
	e, err := Load(strings.NewReader("first\r\nsecond\nthird"))
	require.NoError(t, err)
	require.Equal(t, 3, e.LineCount())
	for i, want := range []string{"first", "second", "third"} {
		got, ok := e.Fetch(i)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, []int{2}, e.Search("third"))
}

func TestLoadVeryLongLine(t *testing.T) {
	long := strings.Repeat("x", 1<<20) + " needle"
	e, err := Load(strings.NewReader("short\n" + long + "\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, e.LineCount())
	assert.Equal(t, []int{1}, e.Search("needle"))
	got, ok := e.Fetch(1)
	require.True(t, ok)
	assert.Equal(t, long, got)
}

func TestSearch(t *testing.T) {
	e := testEngine(t)
	tests := []struct {
		name  string
		query string
		want  []int
	}{
		{"single word", "hello", []int{0}},
		{"multiple words same line", "test line", []int{1}},
		{"words on different lines", "hello test", []int{}},
		{"word not in corpus", "nonexistentword", []int{}},
		{"upper query", "UPPERCASE", []int{3}},
		{"lower query", "uppercase", []int{3}},
		{"mixed query", "LoWeRcAsE", []int{3}},
		{"trailing punctuation", "world!", []int{0}},
		{"comma", "comma,", []int{4}},
		{"period", "period.", []int{4}},
		{"numbers", "123", []int{5}},
		{"numbers and words", "123 numbers", []int{5}},
		{"after empty line", "after empty line", []int{8}},
		{"repeated", "repeated", []int{9}},
		{"repeated twice", "repeated repeated", []int{9}},
		{"common word ascending", "line", []int{1, 2, 4, 5, 6, 8}},
		{"unknown token short-circuit", "line zzzz", []int{}},
		{"unknown token first", "zzzz line", []int{}},
		{"repeated terms then unknown", "line LINE line. zzzz", []int{}},
		{"repeated known terms", "line LINE line.", []int{1, 2, 4, 5, 6, 8}},
		{"punctuation only query", "!!! ...", []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Search(tt.query))
		})
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	e := testEngine(t)
	for _, q := range []string{"", " ", "   ", "\t\n"} {
		got := e.Search(q)
		assert.NotNil(t, got)
		assert.Empty(t, got, "query %q", q)
	}
}

func TestSearchCaseInvariance(t *testing.T) {
	e := testEngine(t)
	for _, w := range []string{"hello", "world", "line", "comma", "repeated"} {
		want := e.Search(w)
		assert.Equal(t, want, e.Search(strings.ToUpper(w)))
		assert.Equal(t, want, e.Search(strings.ToUpper(w[:1])+w[1:]))
	}
}

func TestSearchConjunctiveCorrectness(t *testing.T) {
	e := testEngine(t)
	words := []string{"a", "line", "empty", "with", "an", "test", "hello", "123"}
	for _, a := range words {
		for _, b := range words {
			want := intersectSorted(e.Search(a), e.Search(b))
			assert.Equal(t, want, e.Search(a+" "+b), "query %q", a+" "+b)
		}
	}
}

func intersectSorted(a, b []int) []int {
	in := make(map[int]bool, len(b))
	for _, v := range b {
		in[v] = true
	}
	out := []int{}
	for _, v := range a {
		if in[v] {
			out = append(out, v)
		}
	}
	return out
}

func TestRoundTripScenario(t *testing.T) {
	e := loadLines(t,
		"Hello world!",
		"A test line.",
		"UPPERCASE lowercase",
		"A line with a comma, and a period.",
	)
	assert.Equal(t, []int{0}, e.Search("hello"))
	assert.Equal(t, []int{1}, e.Search("test line"))
	assert.Equal(t, []int{}, e.Search("hello test"))
	assert.Equal(t, []int{2}, e.Search("uppercase"))

	line, ok := e.Fetch(3)
	assert.True(t, ok)
	assert.Equal(t, "A line with a comma, and a period.", line)

	_, ok = e.Fetch(10)
	assert.False(t, ok)
}

func TestFetch(t *testing.T) {
	e := testEngine(t)

	line, ok := e.Fetch(0)
	assert.True(t, ok)
	assert.Equal(t, "Hello world!", line)

	line, ok = e.Fetch(8)
	assert.True(t, ok)
	assert.Equal(t, "A line after an empty line.", line)

	line, ok = e.Fetch(7)
	assert.True(t, ok)
	assert.Equal(t, "", line)
}

func TestFetchBounds(t *testing.T) {
	e := testEngine(t)
	n := e.LineCount()
	for i := 0; i < n; i++ {
		_, ok := e.Fetch(i)
		assert.True(t, ok, "line %d", i)
	}
	for _, i := range []int{n, n + 1, 100, -1} {
		line, ok := e.Fetch(i)
		assert.False(t, ok, "line %d", i)
		assert.Empty(t, line)
	}
}

func TestConcurrentReads(t *testing.T) {
	e := testEngine(t)
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				assert.Equal(t, []int{1}, e.Search("test line"))
				line, ok := e.Fetch((g + i) % e.LineCount())
				assert.True(t, ok)
				_ = line
			}
		}(g)
	}
	wg.Wait()
}

func benchCorpus(lines int) string {
	var sb strings.Builder
	for i := 0; i < lines; i++ {
		sb.WriteString("distributed search engines process queries across shard ")
		sb.WriteString(strings.Repeat("x", i%7))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func BenchmarkSearch(b *testing.B) {
	e, err := Load(strings.NewReader(benchCorpus(50000)))
	require.NoError(b, err)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = e.Search("search queries xxx")
	}
}

// BenchmarkSearchParallel measures concurrent read throughput on one shared
// engine.
func BenchmarkSearchParallel(b *testing.B) {
	e, err := Load(strings.NewReader(benchCorpus(50000)))
	require.NoError(b, err)
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = e.Search("search queries xxx")
		}
	})
}

// BenchmarkLoad measures index construction at several corpus sizes.
func BenchmarkLoad(b *testing.B) {
	for _, size := range []int{100, 1000, 10000} {
		corpus := benchCorpus(size)
		b.Run(fmt.Sprintf("lines_%d", size), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(corpus)))
			for i := 0; i < b.N; i++ {
				if _, err := Load(strings.NewReader(corpus)); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	a := loadLines(t, "alpha", "beta")
	b := loadLines(t, "alpha", "beta")
	c := loadLines(t, "alpha", "gamma")
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}
