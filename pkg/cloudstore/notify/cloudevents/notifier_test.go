package cloudevents

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-cloud/pkg/cloudstore"
)

func TestNotifier_Notify(t *testing.T) {
	type received struct {
		header http.Header
		body   []byte
	}
	got := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{header: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n, err := New(srv.URL, WithSource("/test"))
	require.NoError(t, err)

	note := cloudstore.Notification{
		Kind:           cloudstore.NotificationShareOffered,
		ShareID:        uuid.New(),
		SourceObjectID: uuid.New(),
		SenderID:       uuid.New(),
		RecipientID:    uuid.New(),
		FileName:       "report.pdf",
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, n.Notify(context.Background(), note))

	r := <-got
	assert.Equal(t, "io.simplecloud.share.offered", r.header.Get("Ce-Type"))
	assert.Equal(t, "/test", r.header.Get("Ce-Source"))
	assert.Equal(t, note.ShareID.String(), r.header.Get("Ce-Id"))
	assert.Equal(t, note.RecipientID.String(), r.header.Get("Ce-Subject"))

	var payload cloudstore.Notification
	require.NoError(t, json.Unmarshal(r.body, &payload))
	assert.Equal(t, "report.pdf", payload.FileName)
	assert.Equal(t, note.SenderID, payload.SenderID)
}

func TestNotifier_Failures(t *testing.T) {
	t.Run("EmptyTarget", func(t *testing.T) {
		_, err := New("")
		assert.Error(t, err)
	})

	t.Run("ServerError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		n, err := New(srv.URL)
		require.NoError(t, err)
		err = n.Notify(context.Background(), cloudstore.Notification{Kind: cloudstore.NotificationShareOffered, ShareID: uuid.New()})
		assert.Error(t, err)
	})

	t.Run("Unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		n, err := New(url)
		require.NoError(t, err)
		err = n.Notify(context.Background(), cloudstore.Notification{Kind: cloudstore.NotificationShareOffered, ShareID: uuid.New()})
		assert.Error(t, err)
	})
}
