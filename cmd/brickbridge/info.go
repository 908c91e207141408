// cmd/brickbridge/info.go
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tamzrod/brickbridge/internal/config"
	"github.com/tamzrod/brickbridge/internal/connection"
	"github.com/tamzrod/brickbridge/internal/protocol"
	"github.com/tamzrod/brickbridge/internal/transport"
)

var (
	infoTimeout      time.Duration
	infoBaud         int
	infoPasswordFile string
)

var infoCmd = &cobra.Command{
	Use:   "info <kind> <endpoint>",
	Short: "Connect once and print brick name, firmware and battery level",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger(os.Stderr, "warn", "text")
		if err != nil {
			return err
		}

		kind, err := transport.ParseKind(args[0])
		if err != nil {
			return err
		}
		tr, err := transport.Build(kind, args[1], transport.Options{
			BaudRate:     infoBaud,
			ReadTimeout:  config.DefaultReadTimeoutMs * time.Millisecond,
			TCPPort:      config.DefaultTCPPort,
			HTTPPort:     config.DefaultHTTPPort,
			PasswordFile: infoPasswordFile,
			Logger:       log,
		})
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), infoTimeout)
		defer cancel()

		conn := connection.New(tr, connection.Config{DeviceID: "info", ReplyTimeout: infoTimeout}, connection.WithLogger(log))
		if err := conn.Open(ctx); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer conn.Close()

		out := cmd.OutOrStdout()

		rep, err := conn.Do(ctx, protocol.NewGetDeviceInfo())
		if err != nil {
			return fmt.Errorf("failed to read device info: %w", err)
		}
		info, err := protocol.DecodeDeviceInfo(rep)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Name:      %s\n", info.Name)
		fmt.Fprintf(out, "Address:   %s\n", net.HardwareAddr(info.BluetoothAddress[:]))
		fmt.Fprintf(out, "Signal:    %d\n", info.SignalStrength)
		fmt.Fprintf(out, "FreeFlash: %d\n", info.FreeFlash)

		if rep, err := conn.Do(ctx, protocol.NewGetFirmwareVersion()); err == nil {
			if fw, err := protocol.DecodeFirmwareVersion(rep); err == nil {
				fmt.Fprintf(out, "Firmware:  %s\n", fw)
			}
		}
		if rep, err := conn.Do(ctx, protocol.NewGetBatteryLevel()); err == nil {
			if mv, err := protocol.DecodeBatteryLevel(rep); err == nil {
				fmt.Fprintf(out, "Battery:   %d mV\n", mv)
			}
		}
		return nil
	},
}

func init() {
	infoCmd.Flags().DurationVar(&infoTimeout, "timeout", 5*time.Second, "connect and reply timeout")
	infoCmd.Flags().IntVar(&infoBaud, "baud", config.DefaultBaud, "serial baud rate")
	infoCmd.Flags().StringVar(&infoPasswordFile, "password-file", config.DefaultPasswordFile, "IP bridge password file")
}
