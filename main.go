// Copyright 2025 The nearcar-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("nearcar-fieldsync - Inspector Offline Data Layer")
	fmt.Println("================================================")
	fmt.Println()
	fmt.Println("fieldsync keeps the NearCar inspector app usable on a flaky connection:")
	fmt.Println("a durable SQLite snapshot cache for reads, a write-behind queue for")
	fmt.Println("mutations, and a sync coordinator that reconciles the queue with the")
	fmt.Println("marketplace backend once connectivity returns.")
	fmt.Println()

	fmt.Println("Packages:")
	fmt.Println()
	fmt.Println("  fieldsync/        Local store, connectivity monitor, write queue,")
	fmt.Println("                    sync coordinator, read-through cache adapter")
	fmt.Println()

	fmt.Println("Example:")
	fmt.Println()
	fmt.Println("  examples/inspector_flow/")
	fmt.Println("    End-to-end offline/online walkthrough against a local fake backend")
	fmt.Println("    Run: cd examples/inspector_flow && go run .")
	fmt.Println()
}
