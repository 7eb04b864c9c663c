package main

import (
	"github.com/tidepool-org/cdc-worker/worker"
)

func main() {
	worker.New().Run()
}
