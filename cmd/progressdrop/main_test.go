package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ProgressDrop/internal/model"
)

func TestPrintProgress(t *testing.T) {
	var buf bytes.Buffer
	printProgress(&buf, &model.UploadSession{Filename: "a.bin", Total: 200, Received: 50, Status: model.StatusUploading})
	require.Equal(t, "\ra.bin  25.00% (50/200 bytes) uploading", buf.String())

	buf.Reset()
	printProgress(&buf, &model.UploadSession{Filename: "empty", Status: model.StatusCompleted})
	require.Equal(t, "\rempty 100.00% (0/0 bytes) completed", buf.String())
}

func TestRootCommandRequiresUploadArgs(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"upload"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	require.Error(t, cmd.Execute())
}
