package tokenizer

import "testing"

func TestCommentOnlyLines(t *testing.T) {
	cases := []string{"", "   ", "* a full-line comment", "; also a comment"}
	for _, c := range cases {
		line := ParseLine(c, 1)
		if line.Label != "" || line.Mnemonic != "" || line.Operand != "" {
			t.Errorf("ParseLine(%q) = %+v, want comment-only", c, line)
		}
	}
}

func TestLabelMnemonicOperandComment(t *testing.T) {
	line := ParseLine("LOOP  lda #$01  ; load one", 5)
	if line.Label != "LOOP" {
		t.Errorf("Label = %q, want LOOP", line.Label)
	}
	if line.Mnemonic != "LDA" {
		t.Errorf("Mnemonic = %q, want LDA", line.Mnemonic)
	}
	if line.Operand != "#$01" {
		t.Errorf("Operand = %q, want #$01", line.Operand)
	}
	if line.Comment != "; load one" {
		t.Errorf("Comment = %q, want '; load one'", line.Comment)
	}
}

func TestLabelWithTrailingColon(t *testing.T) {
	line := ParseLine("START: nop", 1)
	if line.Label != "START" {
		t.Errorf("Label = %q, want START", line.Label)
	}
	if line.Mnemonic != "NOP" {
		t.Errorf("Mnemonic = %q, want NOP", line.Mnemonic)
	}
}

func TestNoLabelWhenLineStartsWithWhitespace(t *testing.T) {
	line := ParseLine("   sta $1000", 1)
	if line.Label != "" {
		t.Errorf("Label = %q, want empty", line.Label)
	}
	if line.Mnemonic != "STA" {
		t.Errorf("Mnemonic = %q, want STA", line.Mnemonic)
	}
	if line.Operand != "$1000" {
		t.Errorf("Operand = %q, want $1000", line.Operand)
	}
}

func TestSemicolonInsideCharLiteralIsNotAComment(t *testing.T) {
	line := ParseLine("  lda #';'", 1)
	if line.Operand != "#';'" {
		t.Errorf("Operand = %q, want #';'", line.Operand)
	}
	if line.Comment != "" {
		t.Errorf("Comment = %q, want empty", line.Comment)
	}
}

func TestEquLabelAndDirectiveOperand(t *testing.T) {
	line := ParseLine("COUNT EQU $10", 1)
	if line.Label != "COUNT" || line.Mnemonic != "EQU" || line.Operand != "$10" {
		t.Errorf("got %+v", line)
	}
}
