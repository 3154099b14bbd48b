// sidecar supervises the provisioning worker for a desktop shell.
package main

import (
	"os"

	"github.com/steveyegge/sidecar/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
