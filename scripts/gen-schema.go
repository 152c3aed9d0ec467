//go:build ignore

package main

import (
	"fmt"
	"os"

	"github.com/cpravetz/stage7-sub000/pkg/plan"
)

func main() {
	data, err := plan.GenerateJSONSchema()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile("schemas/step-v1.json", data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("wrote schemas/step-v1.json")
}
