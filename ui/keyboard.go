package ui

import (
	"sync"

	"github.com/eiannone/keyboard"
)

// One buffered channel and a single reader goroutine, so repeated
// StartKeyEvents calls across phases never re-open the keyboard and
// DrainKeys stays non-blocking.
var (
	keyCh     chan rune
	startOnce sync.Once
)

// StartKeyEvents returns a buffered channel emitting single-key runes read
// without Enter. ESC is delivered as 27. If the keyboard cannot be opened
// the returned channel simply never emits.
func StartKeyEvents() chan rune {
	startOnce.Do(func() {
		keyCh = make(chan rune, 64)
		if err := keyboard.Open(); err != nil {
			return
		}
		go func() {
			defer keyboard.Close()
			for {
				char, key, err := keyboard.GetKey()
				if err != nil {
					close(keyCh)
					return
				}
				switch {
				case key == keyboard.KeyEsc:
					select {
					case keyCh <- 27:
					default:
					}
				case key == 0:
					select {
					case keyCh <- char:
					default:
					}
				}
			}
		}()
	})
	if keyCh == nil {
		keyCh = make(chan rune, 64)
	}
	return keyCh
}

// DrainKeys consumes any already-pressed keys so a held-over keystroke does
// not trigger the next phase accidentally.
func DrainKeys() {
	ch := StartKeyEvents()
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
