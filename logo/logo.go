package logo

import (
	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
)

// Display prints the banner of the bot.
func Display() {
	s, _ := pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("A", pterm.FgCyan.ToStyle()),
		putils.LettersFromStringWithStyle("ccreditor", pterm.FgLightMagenta.ToStyle())).Srender()
	pterm.DefaultCenter.Println(s)
	pterm.DefaultCenter.WithCenterEachLineSeparately().
		Println("Accredited investor attestation bot\nverified with VerifyInvestor.")
}
