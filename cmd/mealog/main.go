package main

import "github.com/vietddude/mealog/internal/cli"

func main() {
	cli.Execute()
}
