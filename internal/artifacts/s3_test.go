package artifacts

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(data)))}, nil
}

func TestS3StoreRoundTrip(t *testing.T) {
	fake := &fakeS3{}
	store := newS3Store(fake, "bucket", "manifests/", arbor.NewLogger())

	items := []models.IngestItem{models.NewIngestItem("doc-1", "hello", nil)}
	key, err := store.PutManifest(context.Background(), models.NewManifest(items))
	require.NoError(t, err)

	assert.Contains(t, fake.objects, "manifests/"+key+".json")

	got, err := store.GetManifest(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count)
	assert.Equal(t, "doc-1", got.Items[0].DocID)
}

func TestS3StoreMissingKey(t *testing.T) {
	store := newS3Store(&fakeS3{}, "bucket", "", arbor.NewLogger())

	_, err := store.GetManifest(context.Background(), "absent")
	assert.ErrorIs(t, err, interfaces.ErrManifestNotFound)
}
