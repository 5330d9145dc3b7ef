package main

import (
	"github.com/dominodatalab/autocrane/pkg/cmd"
	"github.com/dominodatalab/autocrane/pkg/cmd/autocrane"
)

func main() {
	if err := autocrane.NewCommand().Execute(); err != nil {
		cmd.ExitWithErr(err)
	}
}
