package main

import (
	"os"

	"github.com/Warspoot/tlserver/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
