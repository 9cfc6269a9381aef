package cli

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
)

func (a *App) getStatus() string {
	return fmt.Sprintf("(%s)", a.coordinator.State())
}

func (a *App) Root(ctx context.Context) {
	log.Println("Welcome to notesync (type 'help' for commands)")
	scanner := bufio.NewScanner(os.Stdin)
	runREPL(ctx, a, a.getStatus, scanner)
}
