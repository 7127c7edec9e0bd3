package main

import (
	"os"

	"horse.fit/sentinel/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
