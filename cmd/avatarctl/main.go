package main

import "github.com/jeremaih2/avatarsystem/internal/cmd"

func main() {
	cmd.Execute()
}
