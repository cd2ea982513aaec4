package main

import (
	"github.com/Paintersrp/warden/internal/cli"
	"github.com/Paintersrp/warden/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
