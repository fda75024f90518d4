package util

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHumanBytes(t *testing.T) {
	require.Equal(t, "0 B", HumanBytes(0))
	require.Equal(t, "1023 B", HumanBytes(1023))
	require.Equal(t, "1.5 KB", HumanBytes(1536))
	require.Equal(t, "3.0 MB", HumanBytes(3<<20))
	require.Equal(t, "2.0 GB", HumanBytes(2<<30))
}

func TestHTMLToText(t *testing.T) {
	src := `<html><head><style>p{color:red}</style></head><body>
<p>Dear <b>Sir</b>,</p>
<p>See <a href="https://portal.example.org">portal</a> or <a href="https://x.org">https://x.org</a></p>
<ul><li>one</li><li>two</li></ul>
</body></html>`
	got := HTMLToText(src)
	require.Equal(t, "Dear Sir,\n\nSee portal (https://portal.example.org) or https://x.org\n\n- one\n\n- two", got)
}

func TestReadSourceLocalAndURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.zip")
	require.NoError(t, os.WriteFile(path, []byte("local"), 0o644))
	data, err := ReadSource(context.Background(), nil, path)
	require.NoError(t, err)
	require.Equal(t, "local", string(data))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.zip" {
			http.Error(w, "nope", http.StatusNotFound)
			return
		}
		w.Write([]byte("remote"))
	}))
	defer srv.Close()

	data, err = ReadSource(context.Background(), srv.Client(), srv.URL+"/a.zip")
	require.NoError(t, err)
	require.Equal(t, "remote", string(data))

	_, err = ReadSource(context.Background(), srv.Client(), srv.URL+"/missing.zip")
	require.ErrorContains(t, err, "404")
}
