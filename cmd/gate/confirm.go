package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// ConsoleConfirmer collects manual-truth confirmations on stdin. Reads
// run in a goroutine so Ctrl-C cancels a pending prompt instead of
// hanging the pass.
type ConsoleConfirmer struct{}

// Confirm implements verify.Confirmer.
func (c *ConsoleConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	fmt.Printf("confirm: %s [y/N] ", prompt)

	type answer struct {
		ok  bool
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			ch <- answer{err: err}
			return
		}
		line = strings.ToLower(strings.TrimSpace(line))
		ch <- answer{ok: line == "y" || line == "yes"}
	}()

	select {
	case <-ctx.Done():
		fmt.Println()
		return false, ctx.Err()
	case a := <-ch:
		return a.ok, a.err
	}
}
