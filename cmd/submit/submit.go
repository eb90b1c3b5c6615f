package submit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/visionml/trainer/internal/submit"
	"github.com/visionml/trainer/pkg/client"
	"github.com/visionml/trainer/pkg/env"
	"gopkg.in/yaml.v3"
)

const (
	usage   = "submit"
	short   = "Submit a training request"
	long    = "This command posts a YAML or JSON training payload to the trainer API and prints the receipt"
	example = "trainer submit -f resnet.yaml"
)

var (
	// Cmd is the submit command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Example: example,
		RunE:    run,
	}

	file   string
	server string
)

func init() {
	Cmd.Flags().StringVarP(&file, "file", "f", "", "payload file (.yaml, .yml or .json)")
	Cmd.Flags().StringVar(&server, "server", "", "trainer API URL (defaults to TRAINER_API_URL)")
	_ = Cmd.MarkFlagRequired("file")
}

func run(cmd *cobra.Command, args []string) error {
	payload, err := readPayload(file)
	if err != nil {
		return err
	}

	url := server
	if url == "" {
		url = env.Variables().APIURL
	}

	receipt, err := client.Client(url).Submit(cmd.Context(), payload)
	if err != nil && !errors.Is(err, submit.ErrEnqueueDeferred) {
		return err
	}

	out, merr := json.MarshalIndent(receipt, "", "  ")
	if merr != nil {
		return merr
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning:", err)
	}
	return nil
}

// readPayload decodes a payload file into a JSON object.
func readPayload(path string) (map[string]interface{}, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}

	var payload map[string]interface{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(b, &payload)
	default:
		err = yaml.Unmarshal(b, &payload)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}

	if payload == nil {
		return nil, fmt.Errorf("%s: payload must be an object", path)
	}

	return payload, nil
}
