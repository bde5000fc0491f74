// Package chart renders indexed candles as ASCII for the CLI.
package chart

import (
	"fmt"
	"strings"

	"github.com/duomarket/duomarket/internal/model"
)

const (
	DefaultWidth  = 60
	DefaultHeight = 15
)

// RenderCloseChart plots the YES close price of each candle as a
// probability between 0 and 1.
func RenderCloseChart(candles []*model.Candle, width, height int) string {
	if len(candles) == 0 {
		return "No candle data available"
	}

	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}

	canvas := make([][]rune, height)
	for i := range canvas {
		canvas[i] = make([]rune, width)
		for j := range canvas[i] {
			canvas[i][j] = ' '
		}
	}

	labelWidth := 6
	dataWidth := width - labelWidth
	sampled := sampleCandles(candles, dataWidth)

	for i, c := range sampled {
		normalized := float64(c.CloseYes) / float64(model.PriceE6Denom)
		y := height - 1 - int(normalized*float64(height-1))
		x := labelWidth + i

		if y >= 0 && y < height && x < width {
			canvas[y][x] = '█'

			for yy := y + 1; yy < height; yy++ {
				if canvas[yy][x] == ' ' {
					canvas[yy][x] = '│'
				}
			}
		}
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("YES close price, %s candles\n", candles[0].Timeframe))
	sb.WriteString(strings.Repeat("─", width) + "\n")

	for i := 0; i < height; i++ {
		price := 1.0 - float64(i)/float64(height-1)
		label := fmt.Sprintf("%4.0f%%", price*100)

		sb.WriteString(label)
		sb.WriteString(" │")
		sb.WriteString(string(canvas[i][labelWidth:]))
		sb.WriteString("\n")
	}

	sb.WriteString(strings.Repeat(" ", labelWidth))
	sb.WriteString("└")
	sb.WriteString(strings.Repeat("─", dataWidth))
	sb.WriteString("\n")

	first := candles[0].Time().Format("01-02 15:04")
	last := candles[len(candles)-1].Time().Format("01-02 15:04")
	padding := dataWidth - len(first) - len(last)
	if padding < 0 {
		padding = 0
	}
	sb.WriteString(strings.Repeat(" ", labelWidth+1))
	sb.WriteString(first)
	sb.WriteString(strings.Repeat(" ", padding))
	sb.WriteString(last)
	sb.WriteString("\n")

	return sb.String()
}

// RenderSimpleBar renders the two sides of a market as opposing
// horizontal bars. Prices are 6-decimal fixed point.
func RenderSimpleBar(priceYesE6 int64, width int) string {
	if width <= 0 {
		width = 50
	}

	yes := float64(priceYesE6) / float64(model.PriceE6Denom)
	no := float64(model.ComplementPriceE6(priceYesE6)) / float64(model.PriceE6Denom)

	yesWidth := int(yes * float64(width))
	if yesWidth > width {
		yesWidth = width
	}
	noWidth := width - yesWidth

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("YES %5.1f%% ", yes*100))
	sb.WriteString(strings.Repeat("█", yesWidth))
	sb.WriteString(strings.Repeat("░", noWidth))
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("NO  %5.1f%% ", no*100))
	sb.WriteString(strings.Repeat("░", yesWidth))
	sb.WriteString(strings.Repeat("█", noWidth))
	sb.WriteString("\n")

	return sb.String()
}

// sampleCandles downsamples candles to fit a given width.
func sampleCandles(candles []*model.Candle, targetCount int) []*model.Candle {
	if len(candles) <= targetCount {
		return candles
	}

	result := make([]*model.Candle, targetCount)
	step := float64(len(candles)) / float64(targetCount)

	for i := 0; i < targetCount; i++ {
		idx := int(float64(i) * step)
		if idx >= len(candles) {
			idx = len(candles) - 1
		}
		result[i] = candles[idx]
	}

	return result
}
