package main

import (
	"os"

	"github.com/liminal-foundation/lre-core/runtimeservice"
)

func main() {
	if err := runtimeservice.Run(); err != nil {
		os.Exit(1)
	}
}
