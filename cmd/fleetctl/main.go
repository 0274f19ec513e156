package main

import (
    "os"

    "github.com/amirimatin/go-fleet/pkg/cli"
)

func main() { os.Exit(cli.Execute()) }
