package nrf24

const (
	REG_CONFIG      = 0x00
	REG_EN_AA       = 0x01
	REG_EN_RXADDR   = 0x02
	REG_SETUP_AW    = 0x03
	REG_SETUP_RETR  = 0x04
	REG_RF_CH       = 0x05
	REG_RF_SETUP    = 0x06
	REG_STATUS      = 0x07
	REG_OBSERVE_TX  = 0x08
	REG_RPD         = 0x09
	REG_RX_ADDR_P0  = 0x0A
	REG_RX_ADDR_P1  = 0x0B
	REG_TX_ADDR     = 0x10
	REG_RX_PW_P0    = 0x11
	REG_FIFO_STATUS = 0x17
	REG_DYNPD       = 0x1C
	REG_FEATURE     = 0x1D

	// SPI commands
	CMD_R_REGISTER   = 0x00
	CMD_W_REGISTER   = 0x20
	CMD_R_RX_PL_WID  = 0x60
	CMD_R_RX_PAYLOAD = 0x61
	CMD_W_TX_PAYLOAD = 0xA0
	CMD_FLUSH_TX     = 0xE1
	CMD_FLUSH_RX     = 0xE2
	CMD_NOP          = 0xFF

	// CONFIG bits
	CFG_PRIM_RX = 1 << 0
	CFG_PWR_UP  = 1 << 1
	CFG_CRCO    = 1 << 2
	CFG_EN_CRC  = 1 << 3

	// STATUS bits
	ST_TX_FULL = 1 << 0
	ST_MAX_RT  = 1 << 4
	ST_TX_DS   = 1 << 5
	ST_RX_DR   = 1 << 6

	// RF_SETUP bits
	RF_LNA_HCURR = 1 << 0
	RF_PWR_MASK  = 0x06
	RF_DR_HIGH   = 1 << 3
	RF_DR_LOW    = 1 << 5

	// FIFO_STATUS bits
	FIFO_RX_EMPTY = 1 << 0
	FIFO_TX_EMPTY = 1 << 4

	// FEATURE bits
	FEAT_EN_DYN_ACK = 1 << 0
	FEAT_EN_ACK_PAY = 1 << 1
	FEAT_EN_DPL     = 1 << 2
)
