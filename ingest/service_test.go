package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LewisZett/parts-connect-pro/listing"
)

type stubExtractor struct {
	out   string
	err   error
	calls int
}

func (s *stubExtractor) Extract(context.Context, string) (string, error) {
	s.calls++
	return s.out, s.err
}

type recordingWriter struct {
	batches [][]listing.PartInput
	err     error
}

func (w *recordingWriter) InsertParts(_ context.Context, ownerID string, parts []listing.PartInput) ([]listing.Listing, error) {
	if w.err != nil {
		return nil, w.err
	}
	w.batches = append(w.batches, parts)
	out := make([]listing.Listing, len(parts))
	for i, p := range parts {
		price := p.Price
		out[i] = listing.Listing{ID: fmt.Sprintf("p%d", i), Kind: listing.KindPart, OwnerID: ownerID, Name: p.Name, Price: &price, Status: listing.StatusAvailable}
	}
	return out, nil
}

// batchRepo backs a real listing.Service so row validation runs as in production.
type batchRepo struct {
	listing.Repository
	inserted []listing.PartInput
}

func (r *batchRepo) InsertParts(_ context.Context, ownerID string, parts []listing.PartInput) ([]listing.Listing, error) {
	r.inserted = append(r.inserted, parts...)
	out := make([]listing.Listing, len(parts))
	for i, p := range parts {
		out[i] = listing.Listing{ID: fmt.Sprintf("p%d", i), Kind: listing.KindPart, OwnerID: ownerID, Name: p.Name, Status: listing.StatusAvailable}
	}
	return out, nil
}

func TestIngestTwoParts(t *testing.T) {
	ex := &stubExtractor{out: `[{"part_name":"GFCI outlet","category":"electrical","condition":"new","price":18},{"part_name":"Wax ring","category":"plumbing","price":4}]`}
	w := &recordingWriter{}
	svc := NewService(ex, w)

	res, err := svc.Ingest(context.Background(), Request{Text: "GFCI outlet new $18, wax ring $4", UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Count)
	require.Len(t, res.Parts, 2)
	for _, p := range res.Parts {
		assert.Equal(t, listing.StatusAvailable, p.Status)
		assert.Equal(t, "u1", p.OwnerID)
	}
	require.Len(t, w.batches, 1)
	assert.Equal(t, "used-good", w.batches[0][1].Condition)
}

func TestIngestNoPartsInsertsNothing(t *testing.T) {
	w := &recordingWriter{}
	svc := NewService(&stubExtractor{out: `[]`}, w)

	_, err := svc.Ingest(context.Background(), Request{Text: "hello there", UserID: "u1"})
	assert.ErrorIs(t, err, ErrNoParts)
	assert.Empty(t, w.batches)
}

func TestIngestValidatesBeforeCallingModel(t *testing.T) {
	ex := &stubExtractor{}
	svc := NewService(ex, &recordingWriter{})

	_, err := svc.Ingest(context.Background(), Request{Text: "   ", UserID: "u1"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Ingest(context.Background(), Request{Text: "valve"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, ex.calls)
}

func TestIngestSurfacesIntegrationAndStoreErrors(t *testing.T) {
	ex := &stubExtractor{err: fmt.Errorf("%w: 503", ErrExtraction)}
	w := &recordingWriter{}
	_, err := NewService(ex, w).Ingest(context.Background(), Request{Text: "valve", UserID: "u1"})
	assert.ErrorIs(t, err, ErrExtraction)
	assert.Empty(t, w.batches)

	storeErr := errors.New("tx aborted")
	_, err = NewService(&stubExtractor{out: `[{"part_name":"Valve core"}]`}, &recordingWriter{err: storeErr}).
		Ingest(context.Background(), Request{Text: "valve", UserID: "u1"})
	assert.ErrorIs(t, err, storeErr)

	_, err = NewService(nil, w).Ingest(context.Background(), Request{Text: "valve", UserID: "u1"})
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestIngestAcceptsVerboseModelOutput(t *testing.T) {
	desc := strings.Repeat("d", listing.MaxDescriptionLen+1)
	ex := &stubExtractor{out: `[{"part_name":"U","category":"plumbing","description":"` + desc + `"},{"part_name":"Trap arm","category":"plumbing"}]`}
	repo := &batchRepo{}
	svc := NewService(ex, listing.NewService(repo))

	res, err := svc.Ingest(context.Background(), Request{Text: "U-bend and a trap arm", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	require.Len(t, repo.inserted, 2)
	assert.Len(t, repo.inserted[0].Description, listing.MaxDescriptionLen)
}

func TestIngestRejectedRowIsAnExtractionFailure(t *testing.T) {
	rejected := fmt.Errorf("part 0: %w: unknown condition", listing.ErrInvalidInput)
	_, err := NewService(&stubExtractor{out: `[{"part_name":"Valve"}]`}, &recordingWriter{err: rejected}).
		Ingest(context.Background(), Request{Text: "valve", UserID: "u1"})
	assert.ErrorIs(t, err, ErrExtraction)
	assert.NotErrorIs(t, err, listing.ErrInvalidInput)
}
