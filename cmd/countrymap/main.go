package main

import "github.com/MeKo-Tech/countrymap/internal/cmd"

func main() {
	cmd.Execute()
}
