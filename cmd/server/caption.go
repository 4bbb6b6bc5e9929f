package main

import (
	"context"
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/Brownie44l1/caption-api/internal/apperr"
	"github.com/Brownie44l1/caption-api/internal/artifacts"
)

var verbose bool

var captionCommand = &cli.Command{
	Name:      "caption",
	Usage:     "Caption image files or URLs",
	ArgsUsage: "<image> [image...]",
	Description: `Caption loads the models from the config and prints one caption per input.
Inputs are local paths or any URL the artifact loader understands (file://, s3://).
On a terminal the output is plain text, otherwise one JSON object per line.`,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:        "verbose",
			Usage:       "Print each word as it is decoded",
			Aliases:     []string{"v"},
			Destination: &verbose,
		},
	},
	Action: captionFiles,
}

type result struct {
	Input   string `json:"input"`
	Caption string `json:"caption"`
	Error   string `json:"error,omitempty"`
}

func captionFiles(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("at least one image is required", 2)
	}
	_, log, captioner, cleanup, err := setup(c.Context)
	if err != nil {
		return err
	}
	defer cleanup()

	out := c.App.Writer
	tty := isTerminal(out)
	failed := 0
	for _, input := range c.Args().Slice() {
		r := result{Input: input}
		r.Caption, err = captionOne(c.Context, captioner, input, out, verbose && tty)
		if err != nil {
			failed++
			r.Error = apperr.PublicMessage(err)
			log.Warnw("Caption failed", "input", input, "error", err)
		}
		if err := writeResult(out, tty, r); err != nil {
			return err
		}
	}
	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d inputs failed", failed, c.NArg()), 1)
	}
	return nil
}

// imageCaptioner is the part of caption.Captioner the command uses.
type imageCaptioner interface {
	Caption(image []byte) (string, error)
	CaptionWords(image []byte, onWord func(word string)) (string, error)
}

// captionOne reads input and captions it. Empty files reach the captioner so
// they are reported the same way as empty uploads.
func captionOne(ctx context.Context, captioner imageCaptioner, input string, out io.Writer, progress bool) (string, error) {
	ok, err := artifacts.Exists(ctx, input)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.Input("%s not found", input)
	}
	data, err := artifacts.Read(ctx, input)
	if err != nil {
		return "", apperr.Input("Cannot read %s", input)
	}
	if !progress {
		return captioner.Caption(data)
	}

	n := 0
	return captioner.CaptionWords(data, func(word string) {
		n++
		fmt.Fprintf(out, "  %d: %s\n", n, word)
	})
}

func writeResult(w io.Writer, tty bool, r result) error {
	if tty {
		if r.Error != "" {
			_, err := fmt.Fprintf(w, "%s: error: %s\n", r.Input, r.Error)
			return err
		}
		_, err := fmt.Fprintf(w, "%s: %s\n", r.Input, r.Caption)
		return err
	}
	line, err := jsoniter.Marshal(r)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", line)
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
