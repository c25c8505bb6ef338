package main

import "github.com/andresmejia3/scribe/cmd"

func main() {
	cmd.Execute()
}
