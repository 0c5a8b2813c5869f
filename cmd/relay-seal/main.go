// Command relay-seal seals a credential so that only one relay build can
// release it.
//
//	relay-seal -label rpc -program-file ./bootstrap < api-key.txt
//	relay-seal -label registry -program-hash 0x9f... -secret-env REGISTRY_API_KEY
//
// The master key is read through Secrets Manager (GATE_MASTER_KEY_ARN) with a
// GATE_MASTER_KEY fallback, the same way the relay reads it.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	awsclient "github.com/cyphera/sponsor-relay/libs/go/client/aws"
	"github.com/cyphera/sponsor-relay/libs/go/config"
	"github.com/cyphera/sponsor-relay/libs/go/logger"
	"github.com/cyphera/sponsor-relay/libs/go/secrets"
)

type options struct {
	label       string
	programHash string
	programFile string
	secretEnv   string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("relay-seal", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.label, "label", "", "credential label, e.g. rpc or registry (required)")
	fs.StringVar(&o.programHash, "program-hash", "", "sha256 of the relay binary allowed to release the credential")
	fs.StringVar(&o.programFile, "program-file", "", "path to the relay binary; hashed instead of -program-hash")
	fs.StringVar(&o.secretEnv, "secret-env", "", "read the secret from this environment variable instead of stdin")
	if err := fs.Parse(args); err != nil {
		return o, err
	}

	if o.label == "" {
		return o, errors.New("-label is required")
	}
	if (o.programHash == "") == (o.programFile == "") {
		return o, errors.New("exactly one of -program-hash or -program-file is required")
	}
	return o, nil
}

func program(o options) (secrets.Program, error) {
	if o.programFile != "" {
		return secrets.ProgramFromFile(o.programFile)
	}
	return secrets.ProgramFromHash(o.programHash)
}

func readSecret(o options, getenv func(string) string, stdin io.Reader) (string, error) {
	if o.secretEnv != "" {
		v := getenv(o.secretEnv)
		if v == "" {
			return "", errors.Errorf("environment variable %s is empty", o.secretEnv)
		}
		return v, nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", errors.Wrap(err, "failed to read secret from stdin")
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("no secret on stdin")
	}
	return line, nil
}

// run seals one credential and writes it as JSON, ready for the relay's
// *_SEALED environment variables.
func run(ctx context.Context, args []string, keys secrets.MasterKeySource, getenv func(string) string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	prog, err := program(o)
	if err != nil {
		return err
	}
	secret, err := readSecret(o, getenv, stdin)
	if err != nil {
		return err
	}
	master, err := keys.MasterKey(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load gate master key")
	}

	sealed, err := secrets.Seal(master, prog.Hash, o.label, secret)
	if err != nil {
		return errors.Wrap(err, "failed to seal credential")
	}
	enc := json.NewEncoder(stdout)
	return enc.Encode(sealed)
}

func main() {
	_ = godotenv.Load()
	logger.InitLogger(os.Getenv(config.EnvStage))

	ctx := context.Background()
	client, err := awsclient.NewSecretsManagerClient(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relay-seal: %v\n", err)
		os.Exit(1)
	}
	keys := secrets.NewSecretsManagerKey(client, config.EnvGateMasterKeyARN, config.EnvGateMasterKey)

	if err := run(ctx, os.Args[1:], keys, os.Getenv, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "relay-seal: %v\n", err)
		os.Exit(2)
	}
}
