package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cashukit/cashukit/wallet"
	"github.com/joho/godotenv"
	decodepay "github.com/nbd-wtf/ln-decodepay"
	"github.com/urfave/cli/v2"
)

var ckw *wallet.Wallet

func walletConfig() wallet.Config {
	path := setWalletPath()
	// default config
	config := wallet.Config{WalletPath: path, CurrentMintURL: "http://127.0.0.1:3338"}

	envPath := filepath.Join(path, ".env")
	if _, err := os.Stat(envPath); err != nil {
		wd, err := os.Getwd()
		if err != nil {
			envPath = ""
		} else {
			envPath = filepath.Join(wd, ".env")
		}
	}

	if len(envPath) > 0 {
		err := godotenv.Load(envPath)
		if err == nil {
			if mintURL := os.Getenv("MINT_URL"); len(mintURL) > 0 {
				config.CurrentMintURL = mintURL
			}
		}
	}

	return config
}

func setWalletPath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}

	path := filepath.Join(homedir, ".cashukit", "wallet")
	if err = os.MkdirAll(path, 0700); err != nil {
		log.Fatal(err)
	}
	return path
}

func setupWallet(ctx *cli.Context) error {
	config := walletConfig()

	var err error
	ckw, err = wallet.LoadWallet(ctx.Context, config)
	if err != nil {
		printErr(err)
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:  "cashukit",
		Usage: "cashu wallet",
		Commands: []*cli.Command{
			balanceCmd,
			mintCmd,
			sendCmd,
			receiveCmd,
			payCmd,
			quotesCmd,
			restoreCmd,
			mnemonicCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		printErr(err)
	}
}

var balanceCmd = &cli.Command{
	Name:   "balance",
	Usage:  "Wallet balance",
	Before: setupWallet,
	Action: getBalance,
}

func getBalance(ctx *cli.Context) error {
	balance, err := ckw.GetBalance(ctx.Context)
	if err != nil {
		printErr(err)
	}
	fmt.Printf("%v sat\n", balance)
	return nil
}

var mintCmd = &cli.Command{
	Name:      "mint",
	Usage:     "Request mint quote. It will return a lightning invoice to be paid",
	ArgsUsage: "[AMOUNT]",
	Before:    setupWallet,
	Action:    mint,
}

func mint(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() == 2 && args.Get(0) == "redeem" {
		return redeem(ctx, args.Get(1))
	}

	if args.Len() < 1 {
		printErr(errors.New("specify an amount to mint"))
	}
	amountStr := args.First()
	amount, err := strconv.ParseUint(amountStr, 10, 64)
	if err != nil {
		printErr(err)
	}

	quote, err := ckw.RequestMint(ctx.Context, amount)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("invoice: %v\n\n", quote.Request)
	fmt.Println("after paying the invoice you can redeem the ecash with")
	fmt.Printf("\tcashukit mint redeem %v\n", quote.Quote)
	return nil
}

func redeem(ctx *cli.Context, quoteId string) error {
	minted, err := ckw.MintTokens(ctx.Context, quoteId)
	if err != nil {
		printErr(err)
	}
	fmt.Printf("%v sat successfully minted\n", minted)
	return nil
}

var sendCmd = &cli.Command{
	Name:      "send",
	Usage:     "Generate a token for the amount",
	ArgsUsage: "[AMOUNT]",
	Before:    setupWallet,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "memo",
			Usage: "memo to attach to the token",
		},
	},
	Action: send,
}

func send(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to send"))
	}
	amount, err := strconv.ParseUint(args.First(), 10, 64)
	if err != nil {
		printErr(err)
	}

	token, err := ckw.Send(ctx.Context, amount, ctx.String("memo"))
	if err != nil {
		printErr(err)
	}
	fmt.Println(token)
	return nil
}

var receiveCmd = &cli.Command{
	Name:      "receive",
	Usage:     "Receive a token",
	ArgsUsage: "[TOKEN]",
	Before:    setupWallet,
	Action:    receive,
}

func receive(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify a token to receive"))
	}

	received, err := ckw.Receive(ctx.Context, args.First())
	if err != nil {
		printErr(err)
	}
	fmt.Printf("%v sat received\n", received)
	return nil
}

var payCmd = &cli.Command{
	Name:      "pay",
	Usage:     "Pay a lightning invoice with ecash",
	ArgsUsage: "[INVOICE]",
	Before:    setupWallet,
	Action:    pay,
}

func pay(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an invoice to pay"))
	}
	invoice := args.First()

	bolt11, err := decodepay.Decodepay(invoice)
	if err != nil {
		printErr(fmt.Errorf("invalid invoice: %v", err))
	}

	quote, err := ckw.RequestMeltQuote(ctx.Context, invoice)
	if err != nil {
		printErr(err)
	}
	fmt.Printf("paying %v sat (+ %v sat fee reserve) to %v\n",
		quote.Amount, quote.FeeReserve, bolt11.Payee)

	melt, err := ckw.Melt(ctx.Context, quote.Quote)
	if err != nil {
		printErr(err)
	}
	if len(melt.Preimage) > 0 {
		fmt.Printf("payment settled. preimage: %v\n", melt.Preimage)
	} else {
		fmt.Printf("payment state: %v\n", melt.State)
	}
	return nil
}

var quotesCmd = &cli.Command{
	Name:   "quotes",
	Usage:  "Check pending proofs with the mint and settle them",
	Before: setupWallet,
	Action: quotes,
}

func quotes(ctx *cli.Context) error {
	if err := ckw.CheckPendingProofs(ctx.Context); err != nil {
		printErr(err)
	}
	fmt.Println("pending proofs reconciled with mint")
	return nil
}

var restoreCmd = &cli.Command{
	Name:      "restore",
	Usage:     "Restore wallet from mnemonic",
	ArgsUsage: "[MNEMONIC]",
	Action:    restore,
}

func restore(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify the mnemonic to restore from"))
	}

	mnemonic := strings.Join(args.Slice(), " ")
	config := walletConfig()
	restored, err := wallet.Restore(context.Background(), config.WalletPath,
		mnemonic, []string{config.CurrentMintURL})
	if err != nil {
		printErr(err)
	}
	fmt.Printf("restored %v sat\n", restored)
	return nil
}

var mnemonicCmd = &cli.Command{
	Name:   "mnemonic",
	Usage:  "Print the wallet mnemonic",
	Before: setupWallet,
	Action: func(ctx *cli.Context) error {
		fmt.Println(ckw.Mnemonic())
		return nil
	},
}

func printErr(msg error) {
	fmt.Println(msg.Error())
	os.Exit(1)
}
