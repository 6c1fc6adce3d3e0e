package main

import (
    "os"

    "github.com/KavataK/qubic-node-setup/pkg/cli"
)

func main() { os.Exit(cli.Execute()) }
