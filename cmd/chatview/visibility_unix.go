//go:build !windows

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/zhouzirui/z-tavern/streamview/internal/render"
)

// watchVisibility 把 SIGUSR1/SIGUSR2 当作页面隐藏/显示事件。
func watchVisibility(ctx context.Context, loop *render.Loop, renderer *render.Session) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			visible := sig == syscall.SIGUSR2
			log.Printf("[chatview] visible=%v", visible)
			loop.Post(func() { renderer.SetVisible(visible) })
		}
	}
}
