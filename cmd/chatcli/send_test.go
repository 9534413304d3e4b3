package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/ai-saas/internal/stream"
)

func TestSendPrintsFragments(t *testing.T) {
	var got stream.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		stream.SetHeaders(w.Header())
		fw := stream.NewFrameWriter(w)
		_ = fw.WriteContent("Bon")
		_ = fw.WriteContent("jour")
		_ = fw.WriteDone()
	}))
	defer srv.Close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"send", "and in French?", "--endpoint", srv.URL, "--token", "tok",
		"--history", "say hi", "--history", "hi"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "Bonjour\n", out.String())
	assert.Equal(t, []string{"say hi", "hi"}, got.OldMessages)
	assert.Equal(t, "and in French?", got.Message)

	out.Reset()
	history = nil
	rootCmd.SetArgs([]string{"send", "x", "--endpoint", srv.URL, "--token", "bad"})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not signed in")
}
