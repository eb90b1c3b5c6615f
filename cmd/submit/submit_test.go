package submit

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/visionml/trainer/internal/models"
	"github.com/visionml/trainer/internal/submit"
)

const payloadYAML = `
name: resnet-cifar10
model: resnet50
epochs: 3
hyperparameters:
  lr: 0.01
`

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReadPayloadYAML(t *testing.T) {
	payload, err := readPayload(write(t, "job.yaml", payloadYAML))
	require.NoError(t, err)

	want := map[string]interface{}{
		"name":            "resnet-cifar10",
		"model":           "resnet50",
		"epochs":          3,
		"hyperparameters": map[string]interface{}{"lr": 0.01},
	}
	if diff := cmp.Diff(want, payload); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestReadPayloadJSON(t *testing.T) {
	payload, err := readPayload(write(t, "job.json", `{"model":"resnet50","epochs":3}`))
	require.NoError(t, err)
	assert.Equal(t, float64(3), payload["epochs"])
}

func TestReadPayloadRejectsNonObject(t *testing.T) {
	_, err := readPayload(write(t, "job.yaml", "- a\n- b\n"))
	assert.Error(t, err)

	_, err = readPayload(write(t, "empty.yaml", ""))
	assert.Error(t, err)

	_, err = readPayload(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSubmitCommand(t *testing.T) {
	id := uuid.New()

	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(submit.Receipt{JobID: id, DispatchToken: "queue-1", Status: models.JobStatusPending, Pending: 1})
	}))
	defer srv.Close()

	var out bytes.Buffer
	Cmd.SetOut(&out)
	Cmd.SetArgs([]string{"-f", write(t, "job.yaml", payloadYAML), "--server", srv.URL})
	require.NoError(t, Cmd.Execute())

	assert.Equal(t, "resnet50", got["model"])

	var receipt submit.Receipt
	require.NoError(t, json.Unmarshal(out.Bytes(), &receipt))
	assert.Equal(t, id, receipt.JobID)
}
