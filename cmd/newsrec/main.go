package main

import (
	"newsrec/cmd/handlers"
	"newsrec/internal/logger"
)

func main() {
	logger.Init()
	handlers.Execute()
}
