//go:build windows

package main

import (
	"context"

	"github.com/zhouzirui/z-tavern/streamview/internal/render"
)

func watchVisibility(context.Context, *render.Loop, *render.Session) {}
