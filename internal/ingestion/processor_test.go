package ingestion

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws-agent/knowledge-assistant/internal/retrieval"
)

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1}, nil
}

type fakeIndexer struct {
	chunks []retrieval.IndexedChunk
}

func (f *fakeIndexer) Index(_ context.Context, chunks []retrieval.IndexedChunk) error {
	f.chunks = append(f.chunks, chunks...)
	return nil
}

const page = `<html><head><title>Connect to your Linux instance</title><script>var x = 1;</script></head>
<body><nav>Home | Docs</nav><h1>Connect using SSH</h1>
<p>Use the key pair you chose at launch.</p><footer>Copyright</footer></body></html>`

func TestProcessDocument(t *testing.T) {
	emb := &fakeEmbedder{}
	idx := &fakeIndexer{}
	p := NewProcessor(emb, idx, Config{})

	res, err := p.ProcessDocument(context.Background(), "https://docs.aws.amazon.com/ec2/connect.html", page)
	require.NoError(t, err)

	assert.Equal(t, "Connect to your Linux instance", res.Title)
	assert.Equal(t, 1, res.Chunks)
	require.Len(t, idx.chunks, 1)

	c := idx.chunks[0]
	assert.Equal(t, "https://docs.aws.amazon.com/ec2/connect.html", c.DocumentID)
	assert.True(t, strings.HasSuffix(c.ChunkID, "_chunk_0"))
	assert.Equal(t, "Connect using SSH Use the key pair you chose at launch.", c.Text)
	assert.NotContains(t, c.Text, "var x")
	assert.NotContains(t, c.Text, "Copyright")
	assert.Len(t, c.Embedding, 2)
}

func TestProcessDocumentChunkIDsAreStable(t *testing.T) {
	idx := &fakeIndexer{}
	p := NewProcessor(&fakeEmbedder{}, idx, Config{})

	_, err := p.ProcessDocument(context.Background(), "https://example.com/a", page)
	require.NoError(t, err)
	_, err = p.ProcessDocument(context.Background(), "https://example.com/a", page)
	require.NoError(t, err)

	require.Len(t, idx.chunks, 2)
	assert.Equal(t, idx.chunks[0].ChunkID, idx.chunks[1].ChunkID)
}

func TestProcessDocumentErrors(t *testing.T) {
	p := NewProcessor(&fakeEmbedder{}, &fakeIndexer{}, Config{})
	_, err := p.ProcessDocument(context.Background(), "https://example.com", "<html><body><script>x()</script></body></html>")
	assert.ErrorIs(t, err, ErrNoContent)

	idx := &fakeIndexer{}
	p = NewProcessor(&fakeEmbedder{err: errors.New("throttled")}, idx, Config{})
	_, err = p.ProcessDocument(context.Background(), "https://example.com", page)
	assert.Error(t, err)
	assert.Empty(t, idx.chunks)
}

func TestChunkText(t *testing.T) {
	p := NewProcessor(nil, nil, Config{ChunkSize: 20, ChunkOverlap: 6})

	chunks := p.chunkText("alpha beta gamma delta epsilon zeta")

	require.Len(t, chunks, 3)
	assert.Equal(t, "alpha beta gamma", chunks[0])
	assert.Equal(t, "gamma delta epsilon", chunks[1], "repeats the overlapping tail")
	assert.Equal(t, "zeta", chunks[2], "no tail fits within the overlap")
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 20)
	}
}

func TestChunkTextEmpty(t *testing.T) {
	p := NewProcessor(nil, nil, Config{})
	assert.Nil(t, p.chunkText("   "))
}
