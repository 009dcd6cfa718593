package main

import (
	"os"

	"horse.fit/paperfeed/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
