package main

import (
	"tldread/cmd/handlers"
)

func main() {
	handlers.Execute()
}
